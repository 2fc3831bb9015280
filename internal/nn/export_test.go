package nn

import (
	"github.com/google/uuid"

	"github.com/born-ml/kiln/internal/native"
)

// KernelID returns the id of the kernel currently cached by v.
func KernelID[A any](v *ValueAndGrad[A]) (uuid.UUID, bool) {
	k := v.currentKernel()
	if k == nil {
		return uuid.Nil, false
	}
	return k.state.id, true
}

// PairKernelID is KernelID for a PairValueAndGrad.
func PairKernelID(p *PairValueAndGrad) (uuid.UUID, bool) {
	return KernelID(p.vg)
}

// FinalizeHandles runs the cleanup of a collected kernel over the given handles.
func FinalizeHandles(rt native.Runtime, grad native.GradClosure, closure native.Closure) {
	finalizeKernel(kernelHandles{rt: rt, id: uuid.New(), grad: grad, closure: closure})
}
