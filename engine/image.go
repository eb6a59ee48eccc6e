package engine

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/GoCodeAlone/hotpatch/il"
)

func init() {
	gob.Register(il.MethodRef{})
	gob.Register(il.FieldRef{})
}

// gobModule/gobType/gobMethod/gobField mirror il.Module's shape without
// the Method.Owner/Field.Owner back-references, which would otherwise
// make the type graph cyclic and unencodable by gob. Owner pointers are
// stripped on encode and rebuilt on decode.
type gobModule struct {
	Name  string
	UUID  string
	Types []*gobType
}

type gobType struct {
	FullName  string
	Synthetic bool
	Methods   []*gobMethod
	Fields    []*gobField
}

type gobMethod struct {
	Name          string
	IsStatic      bool
	IsAbstract    bool
	IsCtor        bool
	IsCctor       bool
	ForeignLinked bool
	GenericArity  int
	Params        []il.Param
	ReturnType    string
	Body          *il.MethodBody
}

type gobField struct {
	Name     string
	Type     string
	IsStatic bool
}

func toGobModule(mod *il.Module) *gobModule {
	g := &gobModule{Name: mod.Name, UUID: mod.UUID, Types: make([]*gobType, len(mod.Types))}
	for i, t := range mod.Types {
		gt := &gobType{FullName: t.FullName, Synthetic: t.Synthetic}
		gt.Methods = make([]*gobMethod, len(t.Methods))
		for j, m := range t.Methods {
			gt.Methods[j] = &gobMethod{
				Name: m.Name, IsStatic: m.IsStatic, IsAbstract: m.IsAbstract,
				IsCtor: m.IsCtor, IsCctor: m.IsCctor, ForeignLinked: m.ForeignLinked,
				GenericArity: m.GenericArity, Params: m.Params, ReturnType: m.ReturnType,
				Body: m.Body,
			}
		}
		gt.Fields = make([]*gobField, len(t.Fields))
		for j, f := range t.Fields {
			gt.Fields[j] = &gobField{Name: f.Name, Type: f.Type, IsStatic: f.IsStatic}
		}
		g.Types[i] = gt
	}
	return g
}

func fromGobModule(g *gobModule) *il.Module {
	mod := &il.Module{Name: g.Name, UUID: g.UUID, Types: make([]*il.Type, len(g.Types))}
	for i, gt := range g.Types {
		t := &il.Type{FullName: gt.FullName, Synthetic: gt.Synthetic}
		t.Methods = make([]*il.Method, len(gt.Methods))
		for j, gm := range gt.Methods {
			t.Methods[j] = &il.Method{
				Owner: t, Name: gm.Name, IsStatic: gm.IsStatic, IsAbstract: gm.IsAbstract,
				IsCtor: gm.IsCtor, IsCctor: gm.IsCctor, ForeignLinked: gm.ForeignLinked,
				GenericArity: gm.GenericArity, Params: gm.Params, ReturnType: gm.ReturnType,
				Body: gm.Body,
			}
		}
		t.Fields = make([]*il.Field, len(gt.Fields))
		for j, gf := range gt.Fields {
			t.Fields[j] = &il.Field{Owner: t, Name: gf.Name, Type: gf.Type, IsStatic: gf.IsStatic}
		}
		mod.Types[i] = t
	}
	return mod
}

// EncodeImage serializes mod into the binary patch image bytes history
// persists ("one binary patch image per record"); also
// used by cmd/hotpatchd's out-of-process worker protocol to ship a
// compiled image back over the wire.
func EncodeImage(mod *il.Module) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(toGobModule(mod)); err != nil {
		return nil, fmt.Errorf("engine: encoding patch image: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeImage reconstructs an *il.Module from a previously persisted
// patch image, used during replay and by the worker protocol client.
func DecodeImage(data []byte) (*il.Module, error) {
	var g gobModule
	if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&g); err != nil {
		return nil, fmt.Errorf("engine: decoding patch image: %w", err)
	}
	return fromGobModule(&g), nil
}

func encodeImage(mod *il.Module) ([]byte, error) { return EncodeImage(mod) }

func decodeImage(data []byte) (*il.Module, error) { return DecodeImage(data) }
