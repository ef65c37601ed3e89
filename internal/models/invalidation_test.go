package models_test

import (
	"cachegate/internal/models"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewInvalidationRecord(t *testing.T) {
	tags := []string{"products"}
	ok := models.NewInvalidationRecord("req-1", tags, "catalog sync", nil, 15*time.Millisecond)

	assert.NotEmpty(t, ok.ID)
	assert.Equal(t, "req-1", ok.RequestID)
	assert.Equal(t, []string{"products"}, ok.Tags)
	assert.True(t, ok.Success)
	assert.Empty(t, ok.Error)
	assert.Equal(t, 15*time.Millisecond, ok.Duration)

	tags[0] = "mutated"
	assert.Equal(t, "products", ok.Tags[0], "record must own its tag slice")

	failed := models.NewInvalidationRecord("req-2", []string{"a"}, "", errors.New("cdn returned 500"), time.Second)
	assert.False(t, failed.Success)
	assert.Equal(t, "cdn returned 500", failed.Error)
}
