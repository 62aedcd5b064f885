//go:build !windows

package regkey

func openNative(target Target) (Key, error) {
	return nil, &OpenError{Hive: target.Hive, Path: target.Path, Err: ErrUnsupported}
}
