package structstore_test

import (
	"fmt"
	"log"
	"os"

	"github.com/hupe1980/structstore"
	"github.com/hupe1980/structstore/codec"
)

func Example() {
	s, err := structstore.New(1 << 16)
	if err != nil {
		log.Fatal(err)
	}
	defer s.Close()

	_ = s.Set("num", 5)
	_ = s.Set("value", 3.14)
	_ = s.Set("mystr", "foo")
	_ = s.Set("flag", true)

	m, err := s.DeepCopy()
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(string(codec.MustMarshal(codec.Default, m)))
	// Output: {"num":5,"value":3.14,"mystr":"foo","flag":true}
}

func ExampleStore_WriteLock() {
	s, _ := structstore.New(1 << 16)
	defer s.Close()
	lst, _ := s.AddList("items")

	// Group several mutations under one write lock.
	g, err := lst.WriteLock()
	if err != nil {
		log.Fatal(err)
	}
	for i := 0; i < 3; i++ {
		_ = lst.Append(i * i)
	}
	g.Release()

	n, _ := lst.Len()
	last, _ := lst.At(n - 1)
	fmt.Println(n, last)
	// Output: 3 4
}

func ExampleStore_ToBytes() {
	s, _ := structstore.New(1 << 16)
	defer s.Close()
	_ = s.Set("pos", structstore.NewFloat64Array([]float64{1, 2, 3, 4}, 2, 2))
	ref, _ := s.Ref("pos")
	_ = s.Set("current", ref)

	frame, err := s.ToBytes(structstore.WithCompression(structstore.CompressionLZ4))
	if err != nil {
		log.Fatal(err)
	}
	out, err := structstore.FromBytes(frame)
	if err != nil {
		log.Fatal(err)
	}
	defer out.Close()

	p, _ := out.Pointer("current")
	v, _ := p.Deref()
	vals, _ := v.(*structstore.Matrix).Float64s()
	fmt.Println(vals)
	// Output: [1 2 3 4]
}

func ExampleOpenShared() {
	dir, err := os.MkdirTemp("", "structstore")
	if err != nil {
		log.Fatal(err)
	}
	defer os.RemoveAll(dir)

	writer, err := structstore.OpenShared("/example", 16384, structstore.WithFileBacking(dir))
	if err != nil {
		log.Fatal(err)
	}
	defer writer.Close()
	root, _ := writer.Store()
	sub, _ := root.AddStore("robot")
	_ = sub.Set("name", "arm")

	// A second handle, as another process would open it.
	reader, err := structstore.OpenShared("/example", 16384, structstore.WithFileBacking(dir))
	if err != nil {
		log.Fatal(err)
	}
	defer reader.Close()
	other, _ := reader.Store()
	robot, _ := other.Store("robot")
	name, _ := robot.String("name")
	fmt.Println(name, reader.Created())
	// Output: arm false
}
