package errors

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingReporter struct {
	reported []*EnhancedError
}

func (r *recordingReporter) ReportError(err *EnhancedError) { r.reported = append(r.reported, err) }
func (r *recordingReporter) IsEnabled() bool                { return true }

func TestFastPathNoTelemetry(t *testing.T) {
	SetTelemetryReporter(nil)

	ee := New(fmt.Errorf("test error")).Build()

	assert.Equal(t, "test error", ee.Error())
	assert.Equal(t, ComponentUnknown, ee.GetComponent())
	assert.Equal(t, CategoryGeneric, ee.Category)
}

func TestBuilderInheritsFromSentinel(t *testing.T) {
	t.Parallel()

	sentinel := New(nil).
		Component("loopback").
		Category(CategoryBuffer).
		Context("condition", "underrun").
		Build()

	err := New(sentinel).
		Context("frames_missing", 12).
		Build()

	assert.Equal(t, "loopback", err.GetComponent())
	assert.Equal(t, CategoryBuffer, err.Category)
	assert.Equal(t, "underrun", err.GetContext()["condition"])
	assert.Equal(t, 12, err.GetContext()["frames_missing"])
	assert.ErrorIs(t, err, sentinel)
}

func TestIsNarrowsByCondition(t *testing.T) {
	t.Parallel()

	underrun := New(nil).Component("audiocore").Category(CategoryBuffer).Context("condition", "underrun").Build()
	overrun := New(nil).Component("audiocore").Category(CategoryBuffer).Context("condition", "overrun").Build()

	fresh := New(nil).Component("audiocore").Category(CategoryBuffer).Context("condition", "overrun").Build()

	assert.ErrorIs(t, fresh, overrun)
	assert.NotErrorIs(t, fresh, underrun)
}

func TestNilErrorMessage(t *testing.T) {
	t.Parallel()

	withMsg := New(nil).Context("error", "device vanished").Build()
	assert.Equal(t, "device vanished", withMsg.Error())

	bare := New(nil).Component("loopback").Category(CategoryState).Build()
	assert.Equal(t, "loopback: state", bare.Error())
}

func TestReporterReceivesBuiltErrors(t *testing.T) {
	rec := &recordingReporter{}
	SetTelemetryReporter(rec)
	t.Cleanup(func() { SetTelemetryReporter(nil) })

	_ = New(fmt.Errorf("device %s failed", "hw:0,0")).Category(CategoryAudioDevice).Build()

	require.Len(t, rec.reported, 1)
	assert.Equal(t, CategoryAudioDevice, rec.reported[0].Category)
}

func TestIsCategoryHelpers(t *testing.T) {
	t.Parallel()

	notFound := New(nil).Category(CategoryNotFound).Build()
	wrapped := fmt.Errorf("lookup: %w", notFound)

	assert.True(t, IsCategory(wrapped, CategoryNotFound))
	assert.False(t, IsCategory(wrapped, CategoryState))
}

func TestScrubMessageForPrivacy(t *testing.T) {
	t.Parallel()

	scrubbed := scrubMessageForPrivacy("Error at https://sentry.example.com?api_key=secret123&token=abc")
	assert.Equal(t, "Error at https://sentry.example.com?[REDACTED]", scrubbed)

	scrubbed = scrubMessageForPrivacy("auth failed with token=abc123")
	assert.False(t, strings.Contains(scrubbed, "abc123"), scrubbed)
}

func TestGenerateErrorTitle(t *testing.T) {
	t.Parallel()

	ee := New(nil).
		Component("audiocore").
		Category(CategoryAudioDevice).
		Context("operation", "open_output_stream").
		Build()

	assert.Equal(t, "Audiocore Audio Device Error Open Output Stream", generateErrorTitle(ee))
}
