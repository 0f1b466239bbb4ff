package providers

import (
	"github.com/smallbiznis/stitchery/internal/providers/email"
	"github.com/smallbiznis/stitchery/internal/providers/imagegen"
	"github.com/smallbiznis/stitchery/internal/providers/pdf"
	"go.uber.org/fx"
)

var Module = fx.Module("providers",
	email.Module,
	imagegen.Module,
	pdf.Module,
)
