package vid2sub

import "embed"

//go:embed web
var WebFiles embed.FS
