package risk

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trading_history.json")
	store := NewFileStore(path)

	want := Metrics{
		TotalPnL:      12.5,
		DailyPnL:      -3.25,
		MaxDrawdown:   -20,
		WinRate:       0.6,
		TotalTrades:   10,
		WinningTrades: 6,
		LosingTrades:  4,
	}
	at := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	if err := store.Save(want, at); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, ok, err := store.Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected history to exist")
	}
	if got != want {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, want)
	}

	// 临时文件改名后不应残留
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Fatalf("temp file left behind: %v", err)
	}

	h, err := ReadHistory(path)
	if err != nil {
		t.Fatalf("read history: %v", err)
	}
	if h.LastUpdated != at.Format(time.RFC3339) {
		t.Fatalf("last updated = %q, want %q", h.LastUpdated, at.Format(time.RFC3339))
	}
}

func TestFileStoreLoadMissing(t *testing.T) {
	store := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))
	_, ok, err := store.Load()
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if ok {
		t.Fatalf("missing file reported as existing")
	}
}

func TestFileStoreLoadCorrupt(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, _, err := NewFileStore(path).Load(); err == nil {
		t.Fatalf("corrupt file should error")
	}
}
