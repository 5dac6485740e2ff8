// Package generator produces synthetic incident assignment events for the
// event stream.
package generator

import (
	"github.com/google/uuid"
	"github.com/jaswdr/faker"
	"github.com/jittakal/kafhaconsumer/internal/config"
	"github.com/jittakal/kafhaconsumer/internal/incident"
	"go.uber.org/zap"
)

// Event is a generated event-stream record.
type Event struct {
	Key   string
	Value []byte
}

// Generator generates fake incident assignment events
type Generator struct {
	config config.GeneratorConfig
	faker  faker.Faker
	logger *zap.Logger
}

// NewGenerator creates a new event generator
func NewGenerator(config config.GeneratorConfig, logger *zap.Logger) *Generator {
	return &Generator{
		config: config,
		faker:  faker.New(),
		logger: logger,
	}
}

// GenerateAssignmentEvent generates an assignment event for a new incident,
// keyed by the incident id.
func (g *Generator) GenerateAssignmentEvent() (Event, error) {
	incidentID := uuid.New().String()

	assigned := g.assigned()

	value, err := incident.NewAssignmentMessage(incidentID, assigned)
	if err != nil {
		g.logger.Error("Failed to build assignment event", zap.String("incidentId", incidentID), zap.Error(err))
		return Event{}, err
	}

	g.logger.Debug("Generated assignment event",
		zap.String("incidentId", incidentID),
		zap.Bool("assignment", assigned),
	)
	return Event{Key: incidentID, Value: value}, nil
}

// assigned reports whether a responder was found for the incident.
func (g *Generator) assigned() bool {
	p := g.config.AssignmentProbability
	switch {
	case p <= 0:
		return false
	case p >= 1:
		return true
	}
	return g.faker.IntBetween(1, 100) <= int(p*100)
}
