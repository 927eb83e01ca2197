//go:build !unix

package local

func probeSignal(pid uint32) error {
	return nil
}
