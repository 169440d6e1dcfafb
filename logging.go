package examauditor

import "go.uber.org/zap"

// NewLogger builds the process logger. Verbose selects the human-oriented
// development encoder with debug level; otherwise production JSON at info.
func NewLogger(verbose bool) (*zap.SugaredLogger, error) {
	var cfg zap.Config
	if verbose {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.Sugar(), nil
}
