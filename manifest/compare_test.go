package manifest

import "testing"

func fm(name string, hash byte) *FileManifest {
	f := &FileManifest{FileName: name}
	f.SHA1Hash[0] = hash
	return f
}

func TestCompareNoOldManifest(t *testing.T) {
	newM := &Manifest{Files: []*FileManifest{fm("a", 1), fm("b", 2)}}
	c := Compare(newM, nil)
	if len(c.Added) != 2 {
		t.Fatalf("expected all files added, got %d", len(c.Added))
	}
	if len(c.Removed)+len(c.Changed)+len(c.Unchanged) != 0 {
		t.Fatalf("expected no other buckets populated")
	}
}

func TestCompareAddedRemovedChangedUnchanged(t *testing.T) {
	oldM := &Manifest{Files: []*FileManifest{
		fm("unchanged.txt", 1),
		fm("changed.txt", 2),
		fm("removed.txt", 3),
	}}
	newM := &Manifest{Files: []*FileManifest{
		fm("unchanged.txt", 1),
		fm("changed.txt", 9),
		fm("added.txt", 4),
	}}

	c := Compare(newM, oldM)

	if len(c.Added) != 1 || c.Added[0].FileName != "added.txt" {
		t.Errorf("unexpected Added: %+v", c.Added)
	}
	if len(c.Removed) != 1 || c.Removed[0].FileName != "removed.txt" {
		t.Errorf("unexpected Removed: %+v", c.Removed)
	}
	if len(c.Changed) != 1 || c.Changed[0].FileName != "changed.txt" {
		t.Errorf("unexpected Changed: %+v", c.Changed)
	}
	if len(c.Unchanged) != 1 || c.Unchanged[0].FileName != "unchanged.txt" {
		t.Errorf("unexpected Unchanged: %+v", c.Unchanged)
	}
}

func TestCompareStableUnderRoundTrip(t *testing.T) {
	oldM := sampleManifest()
	newM := sampleManifest()
	newM.Files[0].SHA1Hash[0] = 7

	before := Compare(newM, oldM)

	oldData, err := oldM.Write(false)
	if err != nil {
		t.Fatalf("Write old: %v", err)
	}
	newData, err := newM.Write(false)
	if err != nil {
		t.Fatalf("Write new: %v", err)
	}
	oldParsed, err := Read(oldData)
	if err != nil {
		t.Fatalf("Read old: %v", err)
	}
	newParsed, err := Read(newData)
	if err != nil {
		t.Fatalf("Read new: %v", err)
	}

	after := Compare(newParsed, oldParsed)

	if len(before.Changed) != len(after.Changed) || len(before.Added) != len(after.Added) ||
		len(before.Removed) != len(after.Removed) || len(before.Unchanged) != len(after.Unchanged) {
		t.Fatalf("comparison not stable under round-trip: before=%+v after=%+v", before, after)
	}
}
