// Package logging builds the process-wide zap logger.
//
// Components accept a *zap.Logger (nil means zap.NewNop()); the Logger type
// here owns construction, redaction and sampling, and adds context-aware
// methods that attach trace, run and request ids:
//
//	cfg, err := logging.FromConfig(appCfg.Logging)
//	logger, err := logging.NewLogger(cfg)
//	defer logger.Sync()
//	orch, err := orchestrator.New(deps, orchestrator.WithLogger(logger.Underlying()))
//
// Error and above are never sampled. Use TestLogger in tests.
package logging
