package web

import (
	"embed"
)

// staticFiles holds the embedded acquisition console assets.
// Everything under static/ ships inside the binary.
//
//go:embed static/*
var staticFiles embed.FS
