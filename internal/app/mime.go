package app

import (
	"log/slog"
	"mime"
	"sort"
)

// vaultTypes covers the upload formats the vault serves back. Minimal images
// often ship without /etc/mime.types, so these are registered explicitly.
var vaultTypes = map[string]string{
	".csv":  "text/csv; charset=utf-8",
	".md":   "text/markdown; charset=utf-8",
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
}

// RegisterVaultTypes adds any vault extension the platform registry lacks and
// returns the extensions it registered.
func RegisterVaultTypes(logger *slog.Logger) []string {
	exts := make([]string, 0, len(vaultTypes))
	for ext := range vaultTypes {
		exts = append(exts, ext)
	}
	sort.Strings(exts)

	var added []string
	for _, ext := range exts {
		if mime.TypeByExtension(ext) != "" {
			continue
		}
		if err := mime.AddExtensionType(ext, vaultTypes[ext]); err != nil {
			if logger != nil {
				logger.Warn("register mime type", slog.String("ext", ext), slog.Any("error", err))
			}
			continue
		}
		added = append(added, ext)
	}
	return added
}
