//go:build !unix

package supervisor

func ignoreTerm() {}
