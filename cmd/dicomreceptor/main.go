// Command dicomreceptor receives DICOM instances over C-STORE and files them
// by patient, study and series.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
