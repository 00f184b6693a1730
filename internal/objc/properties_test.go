package objc

import (
	"testing"

	"github.com/hle-go/corehle/internal/mem"
)

func TestSetPropertyRetainsNewValueAndReleasesOld(t *testing.T) {
	o, _ := newTestRuntime()
	holder := o.RegisterHostClass("Holder", Nil, nil, nil)
	value1 := o.NewInstance(holder, nil)
	value2 := o.NewInstance(holder, nil)
	this := o.NewInstance(holder, nil)
	cpu := &fakeCPU{}

	o.SetProperty(cpu, nil, this, 8, value1, false, CopyRetain)
	if got := o.RetainCount(value1); got != 2 {
		t.Fatalf("got value1 refcount %d, want 2 (NewInstance + SetProperty retain)", got)
	}

	o.SetProperty(cpu, nil, this, 8, value2, false, CopyRetain)
	if got := o.RetainCount(value1); got != 1 {
		t.Fatalf("got value1 refcount %d after replacement, want 1 (old ivar value released)", got)
	}
	if got := o.RetainCount(value2); got != 2 {
		t.Fatalf("got value2 refcount %d, want 2", got)
	}
	if got := o.getIvar(this, 8); got != value2 {
		t.Fatalf("getIvar(this, 8) = %#x, want %#x", got, value2)
	}
}

func TestSetPropertyCopyDispatchesCopyWithZone(t *testing.T) {
	o, _ := newTestRuntime()

	var holder Class
	var sawZone mem.GuestUSize
	holder = o.RegisterHostClass("Holder", Nil, map[string]IMP{
		"copyWithZone:": HostIMP(func(env any, self ID, sel SEL, zone mem.GuestUSize) ID {
			sawZone = zone
			return o.NewInstance(holder, "copy")
		}),
	}, nil)

	this := o.NewInstance(holder, nil)
	value := o.NewInstance(holder, nil)
	cpu := &fakeCPU{}

	o.SetProperty(cpu, nil, this, 8, value, false, CopyWithZone)

	stored := o.getIvar(this, 8)
	if stored == Nil || stored == value {
		t.Fatalf("expected a distinct copy to be stored, got %#x (original %#x)", stored, value)
	}
	if sawZone != 0 {
		t.Fatalf("expected copyWithZone: to be called with a NULL zone, got %#x", sawZone)
	}
}
