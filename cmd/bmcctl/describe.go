// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strings"

	dpb "github.com/golang/protobuf/protoc-gen-go/descriptor"
	"github.com/jhump/protoreflect/desc"
)

func typeHint(t dpb.FieldDescriptorProto_Type) string {
	switch t {
	case dpb.FieldDescriptorProto_TYPE_UINT32, dpb.FieldDescriptorProto_TYPE_UINT64:
		return "[number (>= 0)]"
	case dpb.FieldDescriptorProto_TYPE_INT32, dpb.FieldDescriptorProto_TYPE_INT64:
		return "[number (positive or negative)]"
	case dpb.FieldDescriptorProto_TYPE_BOOL:
		return "[true | false]"
	case dpb.FieldDescriptorProto_TYPE_STRING:
		return "[string]"
	case dpb.FieldDescriptorProto_TYPE_BYTES:
		return "[bytes]"
	}
	return "[unknown type :(]"
}

func printMessage(md *desc.MessageDescriptor, depth int) {
	ml := 0
	for _, f := range md.GetFields() {
		if ml < len(f.GetName()) {
			ml = len(f.GetName())
		}
	}
	pad := strings.Repeat("  ", depth)
	if len(md.GetFields()) == 0 {
		fmt.Printf("%s(empty)\n", pad)
		return
	}
	for _, f := range md.GetFields() {
		if f.GetType() == dpb.FieldDescriptorProto_TYPE_MESSAGE {
			fmt.Printf("%s%s {\n", pad, f.GetName())
			printMessage(f.GetMessageType(), depth+1)
			fmt.Printf("%s}\n", pad)
			continue
		}
		fmt.Printf("%s%-*s: ", pad, ml, f.GetName())
		if f.GetType() == dpb.FieldDescriptorProto_TYPE_ENUM {
			printEnum(f.GetEnumType())
		} else {
			fmt.Println(typeHint(f.GetType()))
		}
	}
}

func printEnum(ed *desc.EnumDescriptor) {
	var s []string
	for _, e := range ed.GetValues() {
		s = append(s, e.GetName())
	}
	fmt.Printf("[%s]\n", strings.Join(s, " | "))
}
