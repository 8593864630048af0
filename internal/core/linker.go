package core

import "fmt"

// LinkDependencies adds each dependency to the data file's dependency set.
// Every dependency must already exist; the first unknown one aborts with a
// NotFoundError and the caller's transaction is discarded.
func LinkDependencies(tx Transaction, dataFileID string, dependencies []string) error {
	for _, dep := range dependencies {
		if err := tx.AddDataFileDependency(dataFileID, dep); err != nil {
			return fmt.Errorf("link dependency %s of data file %s: %w", dep, dataFileID, err)
		}
	}
	return nil
}

// LinkReleaseDataFiles adds each data file to the release's member set.
func LinkReleaseDataFiles(tx Transaction, tag string, dataFileIDs []string) error {
	for _, id := range dataFileIDs {
		if err := tx.AddReleaseDataFile(tag, id); err != nil {
			return fmt.Errorf("add data file %s to release %s: %w", id, tag, err)
		}
	}
	return nil
}
