package constant

// Populated at build time via -ldflags "-X".
var (
	Version     = "dev"
	CompileTime = "unknown"
)
