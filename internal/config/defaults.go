package config

const (
	defaultRawDir        = "~/.local/share/docprep/raw"
	defaultProcessingDir = "~/.local/share/docprep/processing"
	defaultLogDir        = "~/.local/share/docprep/logs"
	defaultTempDir       = "~/.local/share/docprep/tmp"
	defaultCatalogPath   = "~/.local/share/docprep/catalog.db"

	defaultMaxUnpackMB       = 500
	defaultMaxArchiveEntries = 1000
	defaultMaxCycles         = 3
	defaultPDFSamplePages    = 10
	defaultTextLayerRatio    = 0.30
	defaultPageTextMinChars  = 10

	defaultUnrarBinary       = "unrar"
	defaultSevenZipBinary    = "7z"
	defaultLibreOfficeBinary = "libreoffice"
	defaultConvertTimeout    = 60

	defaultWorkerCount = 4

	defaultLogFormat = "console"
	defaultLogLevel  = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			RawDir:        defaultRawDir,
			ProcessingDir: defaultProcessingDir,
			LogDir:        defaultLogDir,
			TempDir:       defaultTempDir,
			CatalogPath:   defaultCatalogPath,
		},
		Limits: Limits{
			MaxUnpackMB:       defaultMaxUnpackMB,
			MaxArchiveEntries: defaultMaxArchiveEntries,
			MaxCycles:         defaultMaxCycles,
			PDFSamplePages:    defaultPDFSamplePages,
			TextLayerRatio:    defaultTextLayerRatio,
			PageTextMinChars:  defaultPageTextMinChars,
		},
		Tools: Tools{
			Unrar:          defaultUnrarBinary,
			SevenZip:       defaultSevenZipBinary,
			LibreOffice:    defaultLibreOfficeBinary,
			ConvertTimeout: defaultConvertTimeout,
		},
		Workers: Workers{
			Count: defaultWorkerCount,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
