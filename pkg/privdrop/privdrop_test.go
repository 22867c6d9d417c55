package privdrop

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDropperFunc(t *testing.T) {
	called := false
	var d Dropper = DropperFunc(func() error {
		called = true
		return errors.New("denied")
	})

	assert.EqualError(t, d.Drop(), "denied")
	assert.True(t, called)
}

func TestNewDefaultsLogger(t *testing.T) {
	c := New(nil)
	assert.NotNil(t, c.Logger)
}
