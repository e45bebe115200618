package plugin

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/wasmforge/kernel/manifest"
)

// binaryExt is the sandbox module file extension discovery looks for.
const binaryExt = ".wasm"

// Discover recursively enumerates root for plugin binaries, resolving
// each one's manifest.toml by searching its own directory, its parent,
// and its grandparent (SPEC_FULL.md §4.5.1), synthesising a default
// manifest when none is found.
func Discover(root string) ([]Info, error) {
	var infos []Info

	err := filepath.Walk(root, func(path string, fi os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if fi.IsDir() || strings.ToLower(filepath.Ext(path)) != binaryExt {
			return nil
		}

		m, mErr := manifest.Discover(filepath.Dir(path), path)
		if mErr != nil {
			return mErr
		}

		infos = append(infos, infoFromManifest(path, fi.Size(), fi.ModTime(), m))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return infos, nil
}
