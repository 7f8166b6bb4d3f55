package plan

import (
	"errors"
	"strings"

	"github.com/aard-ai/aard/pkg/apierrors"
	"github.com/aard-ai/aard/pkg/models"
)

// classify maps a step failure to (category, severity) per spec §4.2's
// "pattern table maps error fingerprints to (category, severity)".
// apierrors.Kind already carries most of the signal the teacher's
// reflection/scoring layer would otherwise have to infer from an error
// string, so the table keys on Kind first and falls back to a
// substring fingerprint only for errors that never passed through the
// apierrors taxonomy (e.g. a raw context.DeadlineExceeded from a step
// timeout).
func classify(err error) models.Classification {
	var apiErr *apierrors.Error
	if errors.As(err, &apiErr) {
		if c, ok := kindClassification[apiErr.Kind]; ok {
			return c
		}
	}

	msg := strings.ToLower(err.Error())
	for _, entry := range fingerprintTable {
		if strings.Contains(msg, entry.fingerprint) {
			return entry.classification
		}
	}

	return models.Classification{Category: models.CategoryUnknown, Severity: models.SeverityMedium}
}

var kindClassification = map[apierrors.Kind]models.Classification{
	apierrors.KindModelTimeout:       {Category: models.CategoryTimeout, Severity: models.SeverityHigh},
	apierrors.KindModelUnavailable:   {Category: models.CategoryEnvironment, Severity: models.SeverityHigh},
	apierrors.KindDependencyNotReady: {Category: models.CategoryDependency, Severity: models.SeverityHigh},
	apierrors.KindToolDenied:         {Category: models.CategoryLogic, Severity: models.SeverityMedium},
	apierrors.KindSandboxViolation:   {Category: models.CategoryLogic, Severity: models.SeverityCritical},
	apierrors.KindValidationFailed:   {Category: models.CategoryValidation, Severity: models.SeverityMedium},
	apierrors.KindQuotaExceeded:      {Category: models.CategoryResource, Severity: models.SeverityHigh},
	apierrors.KindApprovalRejected:   {Category: models.CategoryLogic, Severity: models.SeverityCritical},
	apierrors.KindApprovalTimeout:    {Category: models.CategoryLogic, Severity: models.SeverityHigh},
	apierrors.KindCheckpointCorrupt:  {Category: models.CategoryEnvironment, Severity: models.SeverityCritical},
	apierrors.KindCancelled:          {Category: models.CategoryLogic, Severity: models.SeverityLow},
	apierrors.KindInternal:           {Category: models.CategoryUnknown, Severity: models.SeverityHigh},
}

var fingerprintTable = []struct {
	fingerprint    string
	classification models.Classification
}{
	{"deadline exceeded", models.Classification{Category: models.CategoryTimeout, Severity: models.SeverityHigh}},
	{"context canceled", models.Classification{Category: models.CategoryLogic, Severity: models.SeverityLow}},
	{"connection refused", models.Classification{Category: models.CategoryEnvironment, Severity: models.SeverityHigh}},
	{"no such host", models.Classification{Category: models.CategoryEnvironment, Severity: models.SeverityHigh}},
	{"out of memory", models.Classification{Category: models.CategoryResource, Severity: models.SeverityCritical}},
}

// severityRank orders ErrorSeverity from least to most severe so
// shouldReplan can compare a failure's severity against the
// operator-configured threshold.
var severityRank = map[models.ErrorSeverity]int{
	models.SeverityLow:      0,
	models.SeverityMedium:   1,
	models.SeverityHigh:     2,
	models.SeverityCritical: 3,
}

// shouldReplan implements spec §4.2's replan trigger: replan whenever
// c's severity meets or exceeds replan.on_severity_threshold. Critical
// always replans regardless of threshold, matching the pattern table's
// use of Critical for failures (sandbox violation, approval rejection,
// checkpoint corruption) that always warrant a fresh plan.
func shouldReplan(c models.Classification, threshold string) bool {
	if c.Severity == models.SeverityCritical {
		return true
	}
	return severityRank[c.Severity] >= severityRank[models.ErrorSeverity(threshold)]
}
