package planner

import (
	"path"
	"path/filepath"
	"strings"

	"github.com/chunkinstall/core/manifest"
)

const (
	processingOptimizationMaxFiles = 100_000
	cpThreshold                    = 5
	minOverlap                     = 4
)

// reorderForProcessing greedily pairs files that share chunk parts so the
// coordinator's cache can retire a chunk shortly after it is last needed,
// instead of holding it resident across the whole run. Disabled above
// processingOptimizationMaxFiles files.
func reorderForProcessing(files []*manifest.FileManifest) []*manifest.FileManifest {
	if len(files) > processingOptimizationMaxFiles || len(files) < 2 {
		return files
	}

	guidSets := make([]map[manifest.GUID]bool, len(files))
	for i, f := range files {
		if len(f.ChunkParts) < cpThreshold {
			continue
		}
		set := make(map[manifest.GUID]bool, len(f.ChunkParts))
		for _, p := range f.ChunkParts {
			set[p.GUID] = true
		}
		guidSets[i] = set
	}

	emitted := make([]bool, len(files))
	out := make([]*manifest.FileManifest, 0, len(files))

	for i := range files {
		if emitted[i] {
			continue
		}
		out = append(out, files[i])
		emitted[i] = true

		if guidSets[i] == nil {
			continue
		}

		best := -1
		bestOverlap := minOverlap - 1
		for j := range files {
			if emitted[j] || guidSets[j] == nil {
				continue
			}
			overlap := countOverlap(guidSets[i], guidSets[j])
			if overlap > bestOverlap {
				bestOverlap = overlap
				best = j
			}
		}
		if best >= 0 {
			out = append(out, files[best])
			emitted[best] = true
		}
	}

	return out
}

func countOverlap(a, b map[manifest.GUID]bool) int {
	n := 0
	small, big := a, b
	if len(big) < len(small) {
		small, big = big, small
	}
	for g := range small {
		if big[g] {
			n++
		}
	}
	return n
}

// matchExcludeGlob implements the path-aware glob rule for
// file_exclude_configured patterns: a pattern containing "/" and lacking a
// leading or trailing "*" must match the directory exactly and the
// filename by glob; any other pattern matches the whole path by glob, with
// "*" and "?" also matching "/" there (fnmatch semantics).
func matchExcludeGlob(pattern, filePath string) bool {
	if strings.Contains(pattern, "/") && !strings.HasPrefix(pattern, "*") && !strings.HasSuffix(pattern, "*") {
		dir, file := path.Split(pattern)
		dir = strings.TrimSuffix(dir, "/")
		fileDir, fileName := path.Split(filePath)
		fileDir = strings.TrimSuffix(fileDir, "/")
		if dir != fileDir {
			return false
		}
		ok, _ := filepath.Match(file, fileName)
		return ok
	}
	// filepath.Match's "*" stops at "/"; swapping "/" for a non-separator
	// byte on both sides lets it span directories as fnmatch's does.
	ok, _ := filepath.Match(strings.ReplaceAll(pattern, "/", "\x00"), strings.ReplaceAll(filePath, "/", "\x00"))
	return ok
}

func hasCaseInsensitivePrefix(s string, prefixes []string) bool {
	lower := strings.ToLower(s)
	for _, p := range prefixes {
		if strings.HasPrefix(lower, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
