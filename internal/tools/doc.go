// Package tools owns host command execution used by device backends.
package tools
