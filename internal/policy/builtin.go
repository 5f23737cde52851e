package policy

const (
	arrowPackage  = "apache-arrow"
	duckdbPackage = "@duckdb/duckdb-wasm"

	// duckdbStable is the last DuckDB-Wasm release known to load from the CDN
	// without a worker mismatch.
	duckdbStable = "1.28.0"
)

// Arquero, Mosaic and DuckDB-Wasm all exchange Arrow tables, so they must share
// a single copy of apache-arrow.
func init() {
	MustRegister("arquero", Policy{
		Overrides: map[string]string{arrowPackage: "latest"},
	})
	MustRegister("@uwdata/mosaic-core", Policy{
		Overrides: map[string]string{
			arrowPackage:  "latest",
			duckdbPackage: duckdbStable,
		},
	})
	MustRegister(duckdbPackage, Policy{
		DefaultRange: duckdbStable,
		Overrides:    map[string]string{arrowPackage: "latest"},
	})
	MustRegister("mermaid", Policy{DefaultPath: "dist/mermaid.esm.min.mjs/+esm"})
	MustRegister("echarts", Policy{DefaultPath: "dist/echarts.esm.min.js"})
}
