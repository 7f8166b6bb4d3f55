package plan

import (
	"testing"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/models"
	"github.com/stretchr/testify/assert"
)

func TestClassify_KnownKinds(t *testing.T) {
	c := classify(apierrors.New(apierrors.KindModelTimeout, "timed out"))
	assert.Equal(t, models.CategoryTimeout, c.Category)
	assert.Equal(t, models.SeverityHigh, c.Severity)
}

func TestClassify_FingerprintFallback(t *testing.T) {
	c := classify(assertError("dial tcp: connection refused"))
	assert.Equal(t, models.CategoryEnvironment, c.Category)
	assert.Equal(t, models.SeverityHigh, c.Severity)
}

func TestClassify_UnknownDefaultsToMedium(t *testing.T) {
	c := classify(assertError("something bizarre happened"))
	assert.Equal(t, models.CategoryUnknown, c.Category)
	assert.Equal(t, models.SeverityMedium, c.Severity)
}

func TestShouldReplan(t *testing.T) {
	assert.True(t, shouldReplan(models.Classification{Severity: models.SeverityCritical}, "critical"))
	assert.True(t, shouldReplan(models.Classification{Severity: models.SeverityHigh}, "high"))
	assert.False(t, shouldReplan(models.Classification{Severity: models.SeverityHigh}, "critical"))
	assert.False(t, shouldReplan(models.Classification{Severity: models.SeverityMedium}, "high"))
	assert.True(t, shouldReplan(models.Classification{Severity: models.SeverityMedium}, "medium"))
}

type plainError string

func (e plainError) Error() string { return string(e) }

func assertError(msg string) error { return plainError(msg) }
