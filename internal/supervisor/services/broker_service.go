// Sensoria - Environmental Sensor Network Observation API
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/sensoria

package services

import (
	"context"
)

// Broker matches the embedded NATS server's shutdown surface.
type Broker interface {
	Shutdown()
}

// BrokerService holds the embedded export queue broker under supervision so
// it drains after the workers during tree shutdown. The broker itself is
// started before the tree because publishers connect to it during wiring.
type BrokerService struct {
	broker Broker
	name   string
}

// NewBrokerService creates the wrapper around a started broker.
func NewBrokerService(broker Broker) *BrokerService {
	return &BrokerService{broker: broker, name: "export-broker"}
}

// Serve implements suture.Service: block until shutdown, then drain.
func (s *BrokerService) Serve(ctx context.Context) error {
	<-ctx.Done()
	s.broker.Shutdown()
	return ctx.Err()
}

// String implements fmt.Stringer.
func (s *BrokerService) String() string {
	return s.name
}
