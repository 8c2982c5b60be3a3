package watcher

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"
)

func TestCountFiles_EmptyDir(t *testing.T) {
	dir := t.TempDir()
	count := CountFiles(dir)
	if count != 0 {
		t.Errorf("expected 0 files, got %d", count)
	}
}

func TestCountFiles_WithFiles(t *testing.T) {
	dir := t.TempDir()
	for i := 0; i < 5; i++ {
		os.WriteFile(filepath.Join(dir, "file"+string(rune('a'+i))+".txt"), []byte("test"), 0644)
	}

	count := CountFiles(dir)
	if count != 5 {
		t.Errorf("expected 5 files, got %d", count)
	}
}

func TestCountFiles_ExcludesNodeModules(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("test"), 0644)

	nmDir := filepath.Join(dir, "node_modules")
	os.MkdirAll(nmDir, 0755)
	os.WriteFile(filepath.Join(nmDir, "package.json"), []byte("test"), 0644)

	count := CountFiles(dir)
	if count != 1 {
		t.Errorf("expected 1 file (node_modules excluded), got %d", count)
	}
}

func TestCountFiles_ExcludesGit(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("test"), 0644)

	gitDir := filepath.Join(dir, ".git")
	os.MkdirAll(gitDir, 0755)
	os.WriteFile(filepath.Join(gitDir, "HEAD"), []byte("ref"), 0644)

	count := CountFiles(dir)
	if count != 1 {
		t.Errorf("expected 1 file (.git excluded), got %d", count)
	}
}

func TestCountFiles_ExcludesHiddenFiles(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "main.go"), []byte("test"), 0644)
	os.WriteFile(filepath.Join(dir, ".env"), []byte("SECRET"), 0644)

	count := CountFiles(dir)
	if count != 1 {
		t.Errorf("expected 1 file (hidden files excluded), got %d", count)
	}
}

func TestIsHidden(t *testing.T) {
	tests := []struct {
		name string
		want bool
	}{
		{".git", true},
		{".env", true},
		{"main.go", false},
		{"", false},
	}

	for _, tt := range tests {
		got := isHidden(tt.name)
		if got != tt.want {
			t.Errorf("isHidden(%q) = %v, want %v", tt.name, got, tt.want)
		}
	}
}

func TestWatch_InitialCount(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644)
	os.WriteFile(filepath.Join(dir, "b.txt"), []byte("y"), 0644)

	counts := make(chan int, 8)
	w := New(func(sessionID string, fileCount int) {
		counts <- fileCount
	})
	defer w.Shutdown()

	if err := w.Watch("s1", dir); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	select {
	case count := <-counts:
		if count != 2 {
			t.Errorf("expected initial count 2, got %d", count)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial count")
	}
}

func TestWatch_ReportsNewFiles(t *testing.T) {
	dir := t.TempDir()

	counts := make(chan int, 8)
	w := New(func(sessionID string, fileCount int) {
		counts <- fileCount
	})
	defer w.Shutdown()

	if err := w.Watch("s1", dir); err != nil {
		t.Fatalf("watch failed: %v", err)
	}

	// Initial count.
	select {
	case <-counts:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for initial count")
	}

	os.WriteFile(filepath.Join(dir, "new.txt"), []byte("x"), 0644)

	select {
	case count := <-counts:
		if count != 1 {
			t.Errorf("expected count 1 after create, got %d", count)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for debounced recount")
	}
}

func TestWatch_SameSessionTwiceIsNoop(t *testing.T) {
	dir := t.TempDir()
	w := New(nil)
	defer w.Shutdown()

	if err := w.Watch("s1", dir); err != nil {
		t.Fatalf("first watch failed: %v", err)
	}
	if err := w.Watch("s1", dir); err != nil {
		t.Fatalf("second watch failed: %v", err)
	}

	w.mu.RLock()
	n := len(w.watchers)
	w.mu.RUnlock()
	if n != 1 {
		t.Errorf("expected 1 watcher, got %d", n)
	}
}

func TestRecount_Concurrent(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("x"), 0644)

	w := New(func(sessionID string, fileCount int) {})
	sw := &sessionWatcher{sessionID: "s1", workDir: dir, lastCount: -1}

	// Initial and debounced recounts run on separate goroutines.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.recount(sw)
		}()
	}
	wg.Wait()

	sw.mu.Lock()
	defer sw.mu.Unlock()
	if sw.lastCount != 1 {
		t.Errorf("expected final count 1, got %d", sw.lastCount)
	}
}

func TestUnwatch_UnknownSession(t *testing.T) {
	w := New(nil)
	w.Unwatch("nope") // must not panic
}
