package matfile

import "github.com/thomasteisberg/xopr/pkg/attr"

// Value converts an array to an attribute value. Scalars become scalars,
// vectors become sequences, 1x1 structs become mappings and struct arrays
// become sequences of mappings. Unsupported and empty arrays are null.
func (a *Array) Value() attr.Value {
	if a == nil || a.Unsupported {
		return attr.Null()
	}
	switch {
	case a.Class.IsNumeric():
		return numericValue(a)
	case a.Class == ClassChar:
		switch len(a.Strings) {
		case 0:
			return attr.String("")
		case 1:
			return attr.String(a.Strings[0])
		default:
			vs := make([]attr.Value, len(a.Strings))
			for i, s := range a.Strings {
				vs[i] = attr.String(s)
			}
			return attr.Sequence(vs...)
		}
	case a.Class == ClassStruct:
		switch len(a.Structs) {
		case 0:
			return attr.Null()
		case 1:
			return structValue(a.Structs[0])
		default:
			vs := make([]attr.Value, len(a.Structs))
			for i, elem := range a.Structs {
				vs[i] = structValue(elem)
			}
			return attr.Sequence(vs...)
		}
	case a.Class == ClassCell:
		vs := make([]attr.Value, len(a.Cells))
		for i, c := range a.Cells {
			vs[i] = c.Value()
		}
		return attr.Sequence(vs...)
	}
	return attr.Null()
}

func numericValue(a *Array) attr.Value {
	scalar := func(f float64) attr.Value {
		if a.Logical {
			return attr.Bool(f != 0)
		}
		return attr.Number(f)
	}
	switch len(a.Data) {
	case 0:
		return attr.Null()
	case 1:
		return scalar(a.Data[0])
	}
	vs := make([]attr.Value, len(a.Data))
	for i, f := range a.Data {
		vs[i] = scalar(f)
	}
	return attr.Sequence(vs...)
}

func structValue(elem map[string]*Array) attr.Value {
	m := make(map[string]attr.Value, len(elem))
	for k, v := range elem {
		m[k] = v.Value()
	}
	return attr.Map(m)
}
