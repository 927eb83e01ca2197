package main

import (
	"github.com/danmuck/injectctl/internal/instrument"
)

func helloScript(rt *instrument.Runtime) error {
	rt.Log("[*] Hello, world!")

	if err := rt.Send("message", []byte{0x10, 0x20, 0x30, 0x40}); err != nil {
		return err
	}

	test1, err := rt.Module().GlobalExportByName("test1")
	if err != nil {
		return err
	}
	rt.Log("[*] test1: %s", test1)

	test2, err := rt.Module().GlobalExportByName("test2")
	if err != nil {
		return err
	}
	rt.Log("[*] test2: %s", test2)

	test1fn, err := instrument.NewNativeFunction(test1, instrument.TypeVoid, []instrument.Type{instrument.TypeInt})
	if err != nil {
		return err
	}
	if _, err := test1fn.Call(123); err != nil {
		return err
	}

	if _, err := rt.Attach(test2, instrument.Listener{
		OnEnter: func(inv *instrument.Invocation) {
			rt.Log("Entering test2")
			inv.Args[0] = 654
			rt.Log("Leaving test2")
		},
	}); err != nil {
		return err
	}

	rt.Log("Script Complete")
	return nil
}
