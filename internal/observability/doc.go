// Package observability provides logging, metrics and health checks for the
// VNF manager.
//
// # Logging
//
// Build the logger once at startup and inject it:
//
//	logger, err := observability.InitLogger("production", "info")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer logger.Sync()
//
//	logger.Info("op-occ completed",
//	    observability.OpOccFields(opOcc.ID, opOcc.VnfInstanceID, string(opOcc.Operation))...,
//	)
//
// # Metrics
//
// Metrics are registered on an explicit registerer so tests can use a
// private registry:
//
//	metrics := observability.NewMetrics("vnfm", prometheus.DefaultRegisterer)
//	metrics.RecordOpOccTransition("INSTANTIATE", "COMPLETED")
//
// # Health Checks
//
//	checker := observability.NewHealthChecker(version)
//	checker.RegisterReadinessCheck("redis", store.Ping)
package observability
