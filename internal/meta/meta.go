// Package meta holds build metadata, overridden at link time:
//
//	go build -ldflags "-X github.com/rickchristie/mssql-mcp/internal/meta.Version=v1.2.3"
package meta

var Version = "dev"
