// Copyright 2025 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"testing"

	dpb "github.com/golang/protobuf/protoc-gen-go/descriptor"
)

func TestTypeHint(t *testing.T) {
	for _, tt := range []struct {
		t    dpb.FieldDescriptorProto_Type
		want string
	}{
		{dpb.FieldDescriptorProto_TYPE_STRING, "[string]"},
		{dpb.FieldDescriptorProto_TYPE_UINT32, "[number (>= 0)]"},
		{dpb.FieldDescriptorProto_TYPE_INT64, "[number (positive or negative)]"},
		{dpb.FieldDescriptorProto_TYPE_BOOL, "[true | false]"},
		{dpb.FieldDescriptorProto_TYPE_DOUBLE, "[unknown type :(]"},
	} {
		if got := typeHint(tt.t); got != tt.want {
			t.Errorf("typeHint(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}
