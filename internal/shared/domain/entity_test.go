package domain_test

import (
	"testing"
	"time"

	"github.com/felixgeelhaar/circulum/internal/shared/domain"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestNewBaseEntity(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entity := domain.NewBaseEntity(at)

	assert.NotEqual(t, uuid.Nil, entity.ID())
	assert.Equal(t, at, entity.CreatedAt())
	assert.Equal(t, entity.CreatedAt(), entity.UpdatedAt())
}

func TestNewBaseEntityWithID(t *testing.T) {
	id := uuid.New()
	entity := domain.NewBaseEntityWithID(id, time.Now())

	assert.Equal(t, id, entity.ID())
}

func TestBaseEntity_Touch(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	entity := domain.NewBaseEntity(at)

	entity.Touch(at.Add(time.Minute))
	assert.Equal(t, at.Add(time.Minute), entity.UpdatedAt())
	assert.Equal(t, at, entity.CreatedAt())

	// Going backwards is ignored.
	entity.Touch(at.Add(-time.Hour))
	assert.Equal(t, at.Add(time.Minute), entity.UpdatedAt())
}

func TestRehydrateBaseEntity(t *testing.T) {
	id := uuid.New()
	created := time.Date(2025, 1, 1, 0, 0, 0, 0, time.FixedZone("CET", 3600))
	updated := created.Add(48 * time.Hour)

	entity := domain.RehydrateBaseEntity(id, created, updated)

	assert.Equal(t, id, entity.ID())
	assert.Equal(t, time.UTC, entity.CreatedAt().Location())
	assert.True(t, entity.UpdatedAt().Equal(updated))
}
