package transformer

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaValidationError(t *testing.T) {
	t.Run("message with all fields", func(t *testing.T) {
		cause := errors.New("Undefined type Foo")
		err := NewSchemaValidationError("Todo", "owner", "unknown type", cause)

		assert.Contains(t, err.Error(), "transform: schema validation error")
		assert.Contains(t, err.Error(), "type Todo")
		assert.Contains(t, err.Error(), "field owner")
		assert.Contains(t, err.Error(), "unknown type")
		assert.Contains(t, err.Error(), "Undefined type Foo")
	})

	t.Run("unwrap returns cause", func(t *testing.T) {
		cause := errors.New("root cause")
		err := NewSchemaValidationError("", "", "", cause)

		assert.Equal(t, cause, err.Unwrap())
		assert.True(t, errors.Is(err, cause))
	})

	t.Run("matches sentinel", func(t *testing.T) {
		err := fmt.Errorf("wrapped: %w", NewSchemaValidationError("", "", "bad", nil))
		assert.True(t, errors.Is(err, ErrSchemaValidation))
		assert.True(t, IsSchemaValidationError(err))
		assert.False(t, IsSchemaValidationError(errors.New("other")))
	})
}

func TestInvalidDirectiveError(t *testing.T) {
	t.Run("names directive type and field", func(t *testing.T) {
		err := NewInvalidDirectiveError("sql", "Todo", "search", "can only be used on Query or Mutation types")

		assert.Contains(t, err.Error(), "@sql")
		assert.Contains(t, err.Error(), "type Todo")
		assert.Contains(t, err.Error(), "field search")
		assert.Contains(t, err.Error(), "can only be used on Query or Mutation types")
	})

	t.Run("omits empty field", func(t *testing.T) {
		err := NewInvalidDirectiveError("model", "Todo", "", "bad")
		assert.NotContains(t, err.Error(), "field")
	})

	t.Run("matches sentinel", func(t *testing.T) {
		err := NewInvalidDirectiveError("index", "Todo", "name", "duplicate")
		assert.True(t, errors.Is(err, ErrInvalidDirective))
		assert.False(t, errors.Is(err, ErrSchemaValidation))
		assert.True(t, IsInvalidDirectiveError(err))
	})
}

func TestResourceConsistencyError(t *testing.T) {
	err := NewResourceConsistencyError("table", "TodoTable", "not found")

	assert.Contains(t, err.Error(), `table "TodoTable"`)
	assert.Contains(t, err.Error(), "not found")
	assert.True(t, errors.Is(err, ErrResourceConsistency))
	assert.True(t, IsResourceConsistencyError(err))
}

func TestConfigError(t *testing.T) {
	t.Run("message with value", func(t *testing.T) {
		err := NewConfigError("Format", "xml", "unsupported format")

		assert.Contains(t, err.Error(), "transform: config error")
		assert.Contains(t, err.Error(), "Format")
		assert.Contains(t, err.Error(), "xml")
	})

	t.Run("message without value", func(t *testing.T) {
		err := NewConfigError("Plugins", nil, "no plugins")
		assert.NotContains(t, err.Error(), "value:")
	})

	t.Run("matches sentinel", func(t *testing.T) {
		err := NewConfigError("Plugins", nil, "no plugins")
		assert.True(t, errors.Is(err, ErrInvalidConfig))
		assert.True(t, IsConfigError(err))
	})
}
