package main

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/born-ml/kiln/internal/config"
	"github.com/born-ml/kiln/internal/native/cpu"
	"github.com/born-ml/kiln/internal/nn"
	"github.com/born-ml/kiln/internal/optim"
	"github.com/born-ml/kiln/internal/tensor"
)

// report summarizes a training run.
type report struct {
	Steps          int
	InitialLoss    float32
	FinalLoss      float32
	EvalLoss       float32
	Quantized      []string
	QuantizedLoss  float32
	TrainableCount int
}

func (r *report) print(w io.Writer) {
	fmt.Fprintf(w, "steps:        %d\n", r.Steps)
	fmt.Fprintf(w, "parameters:   %d trainable tensors\n", r.TrainableCount)
	fmt.Fprintf(w, "train loss:   %.6f -> %.6f\n", r.InitialLoss, r.FinalLoss)
	fmt.Fprintf(w, "eval loss:    %.6f\n", r.EvalLoss)
	if r.Quantized != nil {
		fmt.Fprintf(w, "quantized:    %v\n", r.Quantized)
		fmt.Fprintf(w, "quant loss:   %.6f\n", r.QuantizedLoss)
	}
}

// task is the synthetic target y = x @ coef + 0.5.
type task struct {
	ctx  *tensor.Context
	coef *tensor.Tensor
}

func newTask(ctx *tensor.Context, inputs int) (*task, error) {
	coef := make([]float32, inputs)
	for i := range coef {
		coef[i] = float32(i%3) - 1 + 0.5*float32(i%2)
	}
	t, err := ctx.FromFloat32(coef, tensor.Shape{inputs, 1})
	if err != nil {
		return nil, errors.Wrap(err, "target coefficients")
	}
	return &task{ctx: ctx, coef: t}, nil
}

// batch draws n samples. Both tensors are owned by the caller.
func (t *task) batch(n int) (x, y *tensor.Tensor) {
	x = t.ctx.Normal(tensor.Shape{n, t.coef.Shape()[0]}, 0, 1)
	linear := x.MatMul(t.coef)
	defer linear.Free()
	return x, linear.AddScalar(0.5)
}

func (t *task) close() {
	_ = t.coef.Free()
}

func newOptimizer(cfg config.Train) optim.Optimizer {
	if cfg.Optimizer == "sgd" {
		return optim.NewSGD(optim.SGDConfig{LR: cfg.LR, Momentum: cfg.Momentum})
	}
	return optim.NewAdam(optim.AdamConfig{LR: cfg.LR})
}

func mse(m nn.Module, x, y *tensor.Tensor) (*tensor.Tensor, error) {
	pred := m.(nn.UnaryLayer).Forward(x)
	defer pred.Free()
	return nn.MSELoss(pred, y, nn.ReductionMean)
}

// evaluate returns the loss of model on a fresh batch in eval mode.
func evaluate(model *regressor, t *task, n int) (float32, error) {
	model.Eval()
	defer model.Train(true)
	x, y := t.batch(n)
	defer x.Free()
	defer y.Free()
	loss, err := mse(model, x, y)
	if err != nil {
		return 0, err
	}
	defer loss.Free()
	return loss.Item(), nil
}

func train(cfg *config.Config) (*report, error) {
	ctx := tensor.NewContext(cpu.New(), cfg.Train.Seed)
	t, err := newTask(ctx, cfg.Model.Inputs)
	if err != nil {
		return nil, err
	}
	defer t.close()

	model := newRegressor(ctx, cfg.Model.Inputs, cfg.Model.Hidden, cfg.Model.Dropout)
	defer func() {
		if err := model.Close(); err != nil {
			klog.ErrorS(err, "failed to release model")
		}
	}()

	opt := newOptimizer(cfg.Train)
	step := nn.BuildValueAndGrad(model, mse)
	defer step.Close()

	r := &report{Steps: cfg.Train.Steps, TrainableCount: model.TrainableParameters().Len()}
	klog.InfoS("training", "optimizer", cfg.Train.Optimizer, "lr", opt.LR(), "steps", cfg.Train.Steps, "parameters", r.TrainableCount)
	for i := range cfg.Train.Steps {
		x, y := t.batch(cfg.Train.BatchSize)
		loss, grads, err := step.Apply(model, x, y)
		_ = x.Free()
		_ = y.Free()
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", i)
		}
		value := loss.Item()
		_ = loss.Free()
		err = opt.Update(model, grads)
		_ = grads.Free()
		if err != nil {
			return nil, errors.Wrapf(err, "step %d", i)
		}

		if i == 0 {
			r.InitialLoss = value
		}
		r.FinalLoss = value
		if cfg.Train.LogEvery > 0 && (i+1)%cfg.Train.LogEvery == 0 {
			klog.InfoS("train step", "step", i+1, "loss", value)
		}
	}

	if r.EvalLoss, err = evaluate(model, t, cfg.Train.BatchSize); err != nil {
		return nil, err
	}
	klog.InfoS("trained", "loss", r.FinalLoss, "evalLoss", r.EvalLoss)

	if !cfg.Quantize.Enabled {
		return r, nil
	}
	before := model.FlattenModules()
	err = nn.Quantize(model,
		nn.WithGroupSize(cfg.Quantize.GroupSize),
		nn.WithBits(cfg.Quantize.Bits),
		nn.WithMode(nn.QuantizationMode(cfg.Quantize.Mode)))
	if err != nil {
		return nil, errors.Wrap(err, "quantize")
	}
	r.Quantized = []string{}
	for _, name := range model.ChildNames() {
		if model.Child(name) != before[name] {
			r.Quantized = append(r.Quantized, name)
		}
	}
	if r.QuantizedLoss, err = evaluate(model, t, cfg.Train.BatchSize); err != nil {
		return nil, err
	}
	klog.InfoS("quantized", "modules", r.Quantized, "evalLoss", r.QuantizedLoss)
	return r, nil
}
