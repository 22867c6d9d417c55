//go:build !unix

package stressor

func checkFD(int) error { return nil }
