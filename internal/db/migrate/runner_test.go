package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRun_EmptyDSN(t *testing.T) {
	err := Run("", "up")
	assert.ErrorContains(t, err, "DATABASE_URL")
}

func TestRun_InvalidDirection(t *testing.T) {
	err := Run("postgres://localhost/db", "sideways")
	assert.ErrorContains(t, err, "direction must be up or down")
}
