package cli

// ============================================================================
// Input resolution: turns --input's paths into a block.Source, deciding
// between lines mode (one stream, split by --blocksize) and files mode
// (one block per whole file), per spec.md §6.
// ============================================================================

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"strings"

	"github.com/kssh-dispatch/dispatch/internal/block"
	"github.com/kssh-dispatch/dispatch/internal/localfs"
)

// resolveSource builds the block.Source for one run. A single "-" or a
// single regular file means lines mode; anything else (multiple
// inputs, or a single directory) expands to a set of whole files.
func resolveSource(inputs []string, blockSize int, shuffle bool, fs *localfs.Filesystem) (block.Source, bool, error) {
	if len(inputs) == 1 && inputs[0] == "-" {
		src, err := newLineSourceFromStdin(blockSize, shuffle, fs)
		return src, true, err
	}

	if len(inputs) == 1 && !strings.ContainsAny(inputs[0], "*?[") {
		info, err := os.Stat(inputs[0])
		if err != nil {
			return nil, false, fmt.Errorf("stat input %s: %w", inputs[0], err)
		}
		if !info.IsDir() {
			src, err := newLineSourceFromFile(inputs[0], blockSize, shuffle, fs)
			return src, true, err
		}
	}

	paths, err := expandFileInputs(inputs)
	if err != nil {
		return nil, false, err
	}
	if shuffle {
		shuffleStrings(paths)
	}
	return block.NewFileSource(paths), false, nil
}

// expandFileInputs turns a list of paths/globs/directories into a flat,
// ordered list of regular file paths: directories expand to their
// immediate children, and any path containing glob metacharacters is
// expanded with filepath.Glob.
func expandFileInputs(inputs []string) ([]string, error) {
	var out []string
	for _, in := range inputs {
		if strings.ContainsAny(in, "*?[") {
			matches, err := filepath.Glob(in)
			if err != nil {
				return nil, fmt.Errorf("glob %s: %w", in, err)
			}
			out = append(out, matches...)
			continue
		}

		info, err := os.Stat(in)
		if err != nil {
			return nil, fmt.Errorf("stat input %s: %w", in, err)
		}
		if !info.IsDir() {
			out = append(out, in)
			continue
		}

		entries, err := os.ReadDir(in)
		if err != nil {
			return nil, fmt.Errorf("read directory %s: %w", in, err)
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			out = append(out, filepath.Join(in, entry.Name()))
		}
	}
	return out, nil
}

func newLineSourceFromFile(path string, blockSize int, shuffle bool, fs *localfs.Filesystem) (block.Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open input %s: %w", path, err)
	}
	if !shuffle {
		return block.NewLineSource(f, f, path, blockSize, fs), nil
	}
	defer f.Close()

	shuffled, err := block.ShuffleLinesToTemp(f, fs)
	if err != nil {
		return nil, fmt.Errorf("shuffle input %s: %w", path, err)
	}
	sf, err := os.Open(shuffled)
	if err != nil {
		return nil, fmt.Errorf("reopen shuffled input: %w", err)
	}
	return block.NewLineSource(sf, sf, shuffled, blockSize, fs), nil
}

func newLineSourceFromStdin(blockSize int, shuffle bool, fs *localfs.Filesystem) (block.Source, error) {
	if !shuffle {
		return block.NewLineSource(os.Stdin, nil, "", blockSize, fs), nil
	}

	shuffled, err := block.ShuffleLinesToTemp(os.Stdin, fs)
	if err != nil {
		return nil, fmt.Errorf("shuffle stdin: %w", err)
	}
	sf, err := os.Open(shuffled)
	if err != nil {
		return nil, fmt.Errorf("reopen shuffled stdin: %w", err)
	}
	return block.NewLineSource(sf, sf, shuffled, blockSize, fs), nil
}

// shuffleStrings shuffles a file-mode path list in place; unlike lines
// mode there's nothing to spill to a temp file, just the ordering.
func shuffleStrings(paths []string) {
	rand.Shuffle(len(paths), func(i, j int) {
		paths[i], paths[j] = paths[j], paths[i]
	})
}
