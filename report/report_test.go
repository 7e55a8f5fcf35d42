package report_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dysectapi/dysectapi/report"
)

type fakeReporter struct {
	reported [][]byte
	failWith error
	closed   bool
}

func (f *fakeReporter) Report(_ context.Context, _ uint64, packet []byte) error {
	f.reported = append(f.reported, packet)
	return f.failWith
}

func (f *fakeReporter) Close() error {
	f.closed = true
	return nil
}

func TestMultiReportsToEveryBackend(t *testing.T) {
	a, b := &fakeReporter{}, &fakeReporter{}
	m := report.Multi{a, b}

	require.NoError(t, m.Report(context.Background(), 1, []byte("packet")))
	assert.Equal(t, [][]byte{[]byte("packet")}, a.reported)
	assert.Equal(t, [][]byte{[]byte("packet")}, b.reported)
}

func TestMultiContinuesPastOneFailureAndReturnsFirstError(t *testing.T) {
	failing := errors.New("broker down")
	a := &fakeReporter{failWith: failing}
	b := &fakeReporter{}
	m := report.Multi{a, b}

	err := m.Report(context.Background(), 1, []byte("packet"))
	assert.Equal(t, failing, err)
	assert.Len(t, b.reported, 1, "second reporter still ran")
}

func TestMultiCloseClosesEveryBackend(t *testing.T) {
	a, b := &fakeReporter{}, &fakeReporter{}
	m := report.Multi{a, b}

	require.NoError(t, m.Close())
	assert.True(t, a.closed)
	assert.True(t, b.closed)
}
