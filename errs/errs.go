// mrtchat - peer-to-peer chat substrate
// Copyright (C) 2025 sage-x-project
//
// This file is part of mrtchat.
//
// mrtchat is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// mrtchat is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with mrtchat. If not, see <https://www.gnu.org/licenses/>.

// Package errs defines the typed error kinds used across mrtchat's
// components, per the error handling design.
package errs

import "fmt"

// Kind identifies one of the named error categories.
type Kind string

const (
	ConfigInvalid             Kind = "ConfigInvalid"
	InstanceAcquisitionFailed Kind = "InstanceAcquisitionFailed"
	ChannelClosed             Kind = "ChannelClosed"
	ChannelOpenTimeout        Kind = "ChannelOpenTimeout"
	NoHandler                 Kind = "NoHandler"
	KeyAlreadyBound           Kind = "KeyAlreadyBound"
	SignatureInvalid          Kind = "SignatureInvalid"
	PublicKeyChanged          Kind = "PublicKeyChanged"
	PeerUnverified            Kind = "PeerUnverified"
)

// Error is the typed error wrapper used throughout the module: a Kind for
// programmatic matching, a human message, and an optional wrapped cause.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an *Error with no wrapped cause.
func New(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Msg: msg}
}

// Wrap builds an *Error wrapping cause.
func Wrap(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Err: cause}
}

// Is reports whether err (or something it wraps) is an *Error of kind k.
func Is(err error, k Kind) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			if e.Kind == k {
				return true
			}
			err = e.Err
			continue
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
