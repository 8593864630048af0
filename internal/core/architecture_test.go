package core

import (
	"testing"

	"instrumentdb/testutil"
)

func TestCoreDoesNotImportTransports(t *testing.T) {
	testutil.AssertNoDirectImports(t, ".", testutil.TransportImportForbidden, "the catalog service is shared by the importer and the HTTP API")
}
