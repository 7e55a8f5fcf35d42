package httpstatus

import (
	"os"
	"time"

	assetfs "github.com/elazarl/go-bindata-assetfs"
)

// statusPage is the single embedded static page SPEC_FULL §C.10 calls
// for, served under /status/. It is small enough to inline directly
// rather than run a separate bindata generation step.
const statusPage = `<!DOCTYPE html>
<html>
<head><title>dysectd status</title></head>
<body>
<h1>DysectAPI</h1>
<p>See <a href="/probes">/probes</a> for the live probe tree and
<a href="/healthz">/healthz</a> for liveness.</p>
</body>
</html>
`

var statusAssets = map[string][]byte{
	"index.html": []byte(statusPage),
}

func statusAsset(path string) ([]byte, error) {
	b, ok := statusAssets[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return b, nil
}

func statusAssetDir(path string) ([]string, error) {
	if path != "" {
		return nil, os.ErrNotExist
	}
	names := make([]string, 0, len(statusAssets))
	for name := range statusAssets {
		names = append(names, name)
	}
	return names, nil
}

type statusAssetInfo struct {
	name string
	size int64
}

func (i statusAssetInfo) Name() string       { return i.name }
func (i statusAssetInfo) Size() int64        { return i.size }
func (i statusAssetInfo) Mode() os.FileMode  { return 0o444 }
func (i statusAssetInfo) ModTime() time.Time { return time.Time{} }
func (i statusAssetInfo) IsDir() bool        { return false }
func (i statusAssetInfo) Sys() interface{}   { return nil }

func statusAssetInfoFunc(path string) (os.FileInfo, error) {
	b, ok := statusAssets[path]
	if !ok {
		return nil, os.ErrNotExist
	}
	return statusAssetInfo{name: path, size: int64(len(b))}, nil
}

// statusAssetFS wraps the embedded page in an assetfs.AssetFS so it is
// served through the same http.FileSystem interface a real go-bindata
// output would provide, matching SPEC_FULL §C.10's choice of library.
func statusAssetFS() *assetfs.AssetFS {
	return &assetfs.AssetFS{
		Asset:     statusAsset,
		AssetDir:  statusAssetDir,
		AssetInfo: statusAssetInfoFunc,
		Prefix:    "",
	}
}
