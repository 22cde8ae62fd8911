package tracing

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.opentelemetry.io/otel/attribute"
)

func TestSafeAttributesDropsSecrets(t *testing.T) {
	attrs := SafeAttributes(
		attribute.String("Authorization", "Bearer x"),
		attribute.String("http.route", "/api/contracts/:id"),
		attribute.String("contract.id", strings.Repeat("a", 400)),
	)
	assert.Len(t, attrs, 2)
	assert.Equal(t, attribute.Key("http.route"), attrs[0].Key)
	assert.Len(t, attrs[1].Value.AsString(), maxAttributeLength)
}

func TestSafeErrorTruncates(t *testing.T) {
	short := errors.New("boom")
	assert.Same(t, short, SafeError(short))
	assert.Len(t, SafeError(errors.New(strings.Repeat("x", 1000))).Error(), maxAttributeLength)
	assert.Nil(t, SafeError(nil))
}
