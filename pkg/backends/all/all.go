// Package all registers every index backend. Import it with a blank
// identifier:
//
//	import _ "github.com/leapstack-labs/provcat/pkg/backends/all"
package all

import (
	_ "github.com/leapstack-labs/provcat/pkg/backends/duckdb"   // duckdb backend
	_ "github.com/leapstack-labs/provcat/pkg/backends/memory"   // memory backend
	_ "github.com/leapstack-labs/provcat/pkg/backends/null"     // null backend
	_ "github.com/leapstack-labs/provcat/pkg/backends/postgis"  // postgis backend
	_ "github.com/leapstack-labs/provcat/pkg/backends/postgres" // postgres backend
	_ "github.com/leapstack-labs/provcat/pkg/backends/sqlite"   // sqlite backend
)
