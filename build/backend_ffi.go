//go:build ffi

package build

const backend = "+ffi"
