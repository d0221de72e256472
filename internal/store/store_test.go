package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "pos.db"), zerolog.Nop())
	require.NoError(t, err)
	return s
}

func TestActivateConfigEnforcesSingleActive(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	first := &PrinterConfig{
		UserID:        "tenant-a",
		PrinterType:   PrinterUSB,
		DeviceAddress: "USB1208",
		PrinterName:   "Front counter",
	}
	require.NoError(t, s.ActivateConfig(ctx, first))

	second := &PrinterConfig{
		UserID:        "tenant-a",
		PrinterType:   PrinterNetwork,
		DeviceAddress: "192.168.1.100:9100",
		PrinterName:   "Kitchen",
	}
	require.NoError(t, s.ActivateConfig(ctx, second))

	active, err := s.ActiveConfig(ctx, "tenant-a")
	require.NoError(t, err)
	require.NotNil(t, active)
	assert.Equal(t, second.ID, active.ID)

	var count int64
	s.db.Model(&PrinterConfig{}).
		Where("user_id = ? AND is_active = ?", "tenant-a", true).
		Count(&count)
	assert.EqualValues(t, 1, count, "exactly one active config per tenant")
}

func TestActivateConfigUpdatesSameDevice(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	cfg := &PrinterConfig{
		UserID:        "tenant-b",
		PrinterType:   PrinterUSB,
		DeviceAddress: "USB1208",
		PrinterName:   "Old name",
	}
	require.NoError(t, s.ActivateConfig(ctx, cfg))
	firstID := cfg.ID

	again := &PrinterConfig{
		UserID:        "tenant-b",
		PrinterType:   PrinterUSB,
		DeviceAddress: "USB1208",
		PrinterName:   "New name",
		ConfigOptions: datatypes.JSONMap{"paper_width": "58mm"},
	}
	require.NoError(t, s.ActivateConfig(ctx, again))

	assert.Equal(t, firstID, again.ID, "re-initialize must update, not duplicate")

	active, err := s.ActiveConfig(ctx, "tenant-b")
	require.NoError(t, err)
	assert.Equal(t, "New name", active.PrinterName)
}

func TestActivateConfigScopedByTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ActivateConfig(ctx, &PrinterConfig{
		UserID: "tenant-c", PrinterType: PrinterUSB, DeviceAddress: "USB1208",
	}))
	require.NoError(t, s.ActivateConfig(ctx, &PrinterConfig{
		UserID: "tenant-d", PrinterType: PrinterUSB, DeviceAddress: "USB1208",
	}))

	a, err := s.ActiveConfig(ctx, "tenant-c")
	require.NoError(t, err)
	assert.NotNil(t, a, "activating one tenant must not deactivate another")
}

func TestActiveConfigNoneConfigured(t *testing.T) {
	s := openTestStore(t)

	cfg, err := s.ActiveConfig(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestDeactivateConfigIdempotent(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.ActivateConfig(ctx, &PrinterConfig{
		UserID: "tenant-e", PrinterType: PrinterUSB, DeviceAddress: "USB1208",
	}))

	require.NoError(t, s.DeactivateConfig(ctx, "tenant-e"))
	require.NoError(t, s.DeactivateConfig(ctx, "tenant-e"))

	cfg, err := s.ActiveConfig(ctx, "tenant-e")
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestAppendJobIsAppendOnly(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	failed := &PrintJob{
		UserID:       "tenant-f",
		JobType:      JobReceipt,
		OrderID:      "ORD-001",
		Status:       StatusFailed,
		ErrorMessage: "printer unreachable",
		ReceiptText:  "ACME POS",
	}
	require.NoError(t, s.AppendJob(ctx, failed))

	completed := &PrintJob{
		UserID:      "tenant-f",
		JobType:     JobReceipt,
		OrderID:     "ORD-001",
		Status:      StatusCompleted,
		ReceiptText: "ACME POS",
	}
	require.NoError(t, s.AppendJob(ctx, completed))

	jobs, err := s.Jobs(ctx, "tenant-f", 0)
	require.NoError(t, err)
	assert.Len(t, jobs, 2, "a retry is a second record, never a mutation")
	assert.NotEqual(t, jobs[0].ID, jobs[1].ID)
}

func TestJobScopedByTenant(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	job := &PrintJob{UserID: "tenant-g", JobType: JobTest, Status: StatusCompleted}
	require.NoError(t, s.AppendJob(ctx, job))

	got, err := s.Job(ctx, "tenant-g", job.ID)
	require.NoError(t, err)
	require.NotNil(t, got)

	other, err := s.Job(ctx, "someone-else", job.ID)
	require.NoError(t, err)
	assert.Nil(t, other)
}
