package storage

import (
	"context"
	"errors"
	"testing"
)

// stores under test share one behavioral contract; run both through it.
func stores(t *testing.T) map[string]ObjectStore {
	t.Helper()
	local, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewLocalStore: %v", err)
	}
	return map[string]ObjectStore{
		"local":  local,
		"memory": NewMemStore(),
	}
}

func TestWriteReadDelete(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Write(ctx, "ndvi/2020/a.tif", []byte("one"), true); err != nil {
				t.Fatalf("Write: %v", err)
			}
			data, err := s.Read(ctx, "ndvi/2020/a.tif")
			if err != nil || string(data) != "one" {
				t.Fatalf("Read = %q, %v", data, err)
			}

			if err := s.Delete(ctx, "ndvi/2020/a.tif"); err != nil {
				t.Fatalf("Delete: %v", err)
			}
			if _, err := s.Read(ctx, "ndvi/2020/a.tif"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Read after delete = %v, want ErrNotFound", err)
			}
			// Double delete is not an error.
			if err := s.Delete(ctx, "ndvi/2020/a.tif"); err != nil {
				t.Errorf("second Delete: %v", err)
			}
		})
	}
}

func TestOverwriteFalseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			if err := s.Write(ctx, "x.tif", []byte("original"), false); err != nil {
				t.Fatalf("first Write: %v", err)
			}
			if err := s.Write(ctx, "x.tif", []byte("replacement"), false); err != nil {
				t.Fatalf("second Write: %v", err)
			}
			data, _ := s.Read(ctx, "x.tif")
			if string(data) != "original" {
				t.Errorf("overwrite=false replaced content: %q", data)
			}

			if err := s.Write(ctx, "x.tif", []byte("replacement"), true); err != nil {
				t.Fatalf("overwrite Write: %v", err)
			}
			data, _ = s.Read(ctx, "x.tif")
			if string(data) != "replacement" {
				t.Errorf("overwrite=true kept old content: %q", data)
			}
		})
	}
}

func TestListByPrefix(t *testing.T) {
	ctx := context.Background()
	for name, s := range stores(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range []string{
				"ndvi/2020/ndvi_2020_12_60.tif",
				"ndvi/2020/ndvi_2020_10_50.tif",
				"evi/2020/evi_2020_12_60.tif",
			} {
				if err := s.Write(ctx, p, []byte("x"), true); err != nil {
					t.Fatalf("Write %s: %v", p, err)
				}
			}
			got, err := s.List(ctx, "ndvi/2020/")
			if err != nil {
				t.Fatalf("List: %v", err)
			}
			want := []string{
				"ndvi/2020/ndvi_2020_10_50.tif",
				"ndvi/2020/ndvi_2020_12_60.tif",
			}
			if len(got) != len(want) {
				t.Fatalf("List = %v, want %v", got, want)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Errorf("List[%d] = %q, want %q", i, got[i], want[i])
				}
			}
		})
	}
}

func TestLocalStoreRejectsTraversal(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocalStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"../evil.tif", "/etc/passwd", "a/../../b.tif"} {
		if err := s.Write(ctx, name, []byte("x"), true); err == nil {
			t.Errorf("Write accepted %q", name)
		}
		if _, err := s.Read(ctx, name); err == nil {
			t.Errorf("Read accepted %q", name)
		}
		if err := s.Delete(ctx, name); err == nil {
			t.Errorf("Delete accepted %q", name)
		}
	}
}

func TestDownloadAll(t *testing.T) {
	ctx := context.Background()
	s := NewMemStore()
	paths := []string{"a", "b", "c"}
	for _, p := range paths {
		if err := s.Write(ctx, p, []byte("data-"+p), true); err != nil {
			t.Fatal(err)
		}
	}

	blobs, err := DownloadAll(ctx, s, paths, 2)
	if err != nil {
		t.Fatalf("DownloadAll: %v", err)
	}
	for i, p := range paths {
		if string(blobs[i]) != "data-"+p {
			t.Errorf("blob %d = %q", i, blobs[i])
		}
	}

	if _, err := DownloadAll(ctx, s, []string{"a", "missing"}, 2); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing object error = %v, want ErrNotFound", err)
	}
}
