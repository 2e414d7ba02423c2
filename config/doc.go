// Package config loads the tuplestreams configuration.
//
// Files are JSON, or YAML when the name ends in .yaml or .yml. Layers merge over
// Default(): nested sections merge key by key, lists such as channels are replaced
// whole. Durations are written as strings ("250ms", "2s", "14d") or as nanoseconds.
//
//	loader := config.NewLoader()
//	loader.AddLayer("configs/base.yaml")
//	loader.AddLayer("configs/site.json")
//	loader.EnableValidation(true)
//
//	cfg, err := loader.Load()
//	if err != nil {
//		log.Fatal(err)
//	}
//
// A minimal file binding one UDP channel:
//
//	registry:
//	  mode: concurrent
//	lease:
//	  default_duration: 30s
//	channels:
//	  - name: sensors
//	    local: 0.0.0.0:7400
//	    remote: 10.0.0.12:7400
//	    mode: inout
//	    send_rate: 200
//	store:
//	  backend: memory
//
// The environment overrides a few fields after the files are merged:
// TUPLESTREAMS_NATS_URLS (comma separated), TUPLESTREAMS_STORE_BACKEND,
// TUPLESTREAMS_REGISTRY_MODE and TUPLESTREAMS_METRICS_PORT.
package config
