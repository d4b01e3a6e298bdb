package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/pgzip"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/bazaar/internal/domain/promotion"
)

func writeFeed(t *testing.T, dir, name string, lines ...string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := pgzip.NewWriter(f)
	_, err = gz.Write([]byte(strings.Join(lines, "\n") + "\n"))
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())
	return path
}

func TestNormalizeCode(t *testing.T) {
	for _, tt := range []struct {
		in   string
		want string
		ok   bool
	}{
		{"save10", "SAVE10", true},
		{"  Spring-Sale_2026 ", "SPRING-SALE_2026", true},
		{"abc", "", false},
		{strings.Repeat("A", 33), "", false},
		{"BAD CODE", "", false},
		{"ÜBERDEAL", "", false},
	} {
		got, ok := normalizeCode(tt.in)
		assert.Equal(t, tt.ok, ok, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
}

func TestFindValidCodes(t *testing.T) {
	dir := t.TempDir()
	files := []string{
		writeFeed(t, dir, "a.gz", "ALPHA01", "beta0002", "GAMMA03", "xx"),
		writeFeed(t, dir, "b.gz", "BETA0002", "DELTA04", "gamma03"),
		writeFeed(t, dir, "c.gz", "GAMMA03", "EPSILON5"),
	}
	ctx := context.Background()

	filters, err := buildBloomFilters(ctx, files)
	require.NoError(t, err)
	require.Len(t, filters, 3)

	codes, err := findValidCodes(ctx, files, filters, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"BETA0002", "GAMMA03"}, codes)

	codes, err = findValidCodes(ctx, files, filters, 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"GAMMA03"}, codes)

	codes, err = findValidCodes(ctx, files, filters, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{"ALPHA01", "BETA0002", "DELTA04", "EPSILON5", "GAMMA03"}, codes)
}

func TestStreamGzFile_Canceled(t *testing.T) {
	path := writeFeed(t, t.TempDir(), "a.gz", "ALPHA01")
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.ErrorIs(t, streamGzFile(ctx, path, func(string) {}), context.Canceled)
}

func TestParseRule(t *testing.T) {
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	rule, err := parseRule("percentage", "15", "50", "20", "720h", now)
	require.NoError(t, err)
	assert.Equal(t, promotion.DiscountPercentage, rule.DiscountType)
	assert.True(t, rule.Value.Equal(decimal.NewFromInt(15)))
	assert.True(t, rule.MinOrderAmount.Equal(decimal.NewFromInt(50)))
	assert.True(t, rule.Active)
	require.NotNil(t, rule.ExpiresAt)
	assert.Equal(t, now.Add(720*time.Hour), *rule.ExpiresAt)

	rule, err = parseRule("fixed", "5", "0", "0", "2026-12-31T00:00:00Z", now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC), *rule.ExpiresAt)

	for _, bad := range [][5]string{
		{"bogo", "5", "0", "0", ""},
		{"percentage", "150", "0", "0", ""},
		{"fixed", "-1", "0", "0", ""},
		{"fixed", "x", "0", "0", ""},
		{"fixed", "5", "0", "0", "tomorrow"},
	} {
		_, err := parseRule(bad[0], bad[1], bad[2], bad[3], bad[4], now)
		assert.Error(t, err, bad)
	}
}

func TestBuildPromotions(t *testing.T) {
	rule := promotion.Promotion{DiscountType: promotion.DiscountFixed, Value: decimal.NewFromInt(5), Active: true}
	promos := buildPromotions([]string{"AAAA1", "BBBB2"}, rule)
	require.Len(t, promos, 2)
	assert.Equal(t, "AAAA1", promos[0].Code)
	assert.Equal(t, "BBBB2", promos[1].Code)
	assert.True(t, promos[1].Value.Equal(decimal.NewFromInt(5)))
}

func TestRun_Validation(t *testing.T) {
	ctx := context.Background()
	require.Error(t, run(ctx, options{minSources: 0}))
	require.Error(t, run(ctx, options{minSources: 2, files: []string{"a.gz"}}))
	require.Error(t, run(ctx, options{minSources: 1, files: []string{filepath.Join(t.TempDir(), "missing.gz")}}))
}
