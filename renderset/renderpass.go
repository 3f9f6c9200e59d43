package renderset

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/core/v3/core1_0"
	"github.com/vkngwrapper/kiln/resource"
)

func attachmentDescription(image *resource.Image, loadOp core1_0.AttachmentLoadOp, storeOp core1_0.AttachmentStoreOp, finalLayout core1_0.ImageLayout) core1_0.AttachmentDescription {
	return core1_0.AttachmentDescription{
		Format:         image.Format(),
		Samples:        image.Samples(),
		LoadOp:         loadOp,
		StoreOp:        storeOp,
		StencilLoadOp:  core1_0.AttachmentLoadOpDontCare,
		StencilStoreOp: core1_0.AttachmentStoreOpDontCare,
		InitialLayout:  core1_0.ImageLayoutUndefined,
		FinalLayout:    finalLayout,
	}
}

// createRenderPass builds the single-subpass render pass along with the clear values and the final
// layout of each attachment, all in attachment order
func (r *RenderSet) createRenderPass() error {
	multisampled := len(r.resolves) > 0
	clearColor := core1_0.ClearValueFloat{
		r.options.ClearColor[0],
		r.options.ClearColor[1],
		r.options.ClearColor[2],
		r.options.ClearColor[3],
	}

	var attachments []core1_0.AttachmentDescription
	var colorRefs, resolveRefs []core1_0.AttachmentReference

	for _, color := range r.colors {
		storeOp := core1_0.AttachmentStoreOpStore
		finalLayout := color.RestingLayout()
		if multisampled {
			storeOp = core1_0.AttachmentStoreOpDontCare
			finalLayout = core1_0.ImageLayoutColorAttachmentOptimal
		}

		colorRefs = append(colorRefs, core1_0.AttachmentReference{
			Attachment: len(attachments),
			Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
		})
		attachments = append(attachments, attachmentDescription(color, core1_0.AttachmentLoadOpClear, storeOp, finalLayout))
		r.finalLayouts = append(r.finalLayouts, finalLayout)
		r.clearValues = append(r.clearValues, clearColor)
	}

	for _, resolve := range r.resolves {
		resolveRefs = append(resolveRefs, core1_0.AttachmentReference{
			Attachment: len(attachments),
			Layout:     core1_0.ImageLayoutColorAttachmentOptimal,
		})
		attachments = append(attachments, attachmentDescription(resolve, core1_0.AttachmentLoadOpDontCare, core1_0.AttachmentStoreOpStore, resolve.RestingLayout()))
		r.finalLayouts = append(r.finalLayouts, resolve.RestingLayout())
		r.clearValues = append(r.clearValues, clearColor)
	}

	subpass := core1_0.SubpassDescription{
		PipelineBindPoint:  core1_0.PipelineBindPointGraphics,
		ColorAttachments:   colorRefs,
		ResolveAttachments: resolveRefs,
	}

	if r.depth != nil {
		subpass.DepthStencilAttachment = &core1_0.AttachmentReference{
			Attachment: len(attachments),
			Layout:     core1_0.ImageLayoutDepthStencilAttachmentOptimal,
		}
		attachments = append(attachments, attachmentDescription(r.depth, core1_0.AttachmentLoadOpClear, core1_0.AttachmentStoreOpDontCare, core1_0.ImageLayoutDepthStencilAttachmentOptimal))
		r.finalLayouts = append(r.finalLayouts, core1_0.ImageLayoutDepthStencilAttachmentOptimal)
		r.clearValues = append(r.clearValues, core1_0.ClearValueDepthStencil{Depth: r.options.clearDepth(), Stencil: 0})
	}

	attachmentStages := core1_0.PipelineStageColorAttachmentOutput | core1_0.PipelineStageEarlyFragmentTests | core1_0.PipelineStageLateFragmentTests
	attachmentWrites := core1_0.AccessColorAttachmentWrite | core1_0.AccessDepthStencilAttachmentWrite

	renderPass, res, err := r.factory.Driver().CreateRenderPass(core1_0.RenderPassCreateInfo{
		Attachments: attachments,
		Subpasses:   []core1_0.SubpassDescription{subpass},
		SubpassDependencies: []core1_0.SubpassDependency{
			{
				SrcSubpass:    core1_0.SubpassExternal,
				DstSubpass:    0,
				SrcStageMask:  attachmentStages | core1_0.PipelineStageTransfer | core1_0.PipelineStageComputeShader,
				SrcAccessMask: 0,
				DstStageMask:  attachmentStages,
				DstAccessMask: attachmentWrites,
			},
			{
				// Later passes, compute sets and transfers read what this pass wrote
				SrcSubpass:    0,
				DstSubpass:    core1_0.SubpassExternal,
				SrcStageMask:  attachmentStages,
				SrcAccessMask: attachmentWrites,
				DstStageMask:  core1_0.PipelineStageFragmentShader | core1_0.PipelineStageComputeShader | core1_0.PipelineStageTransfer,
				DstAccessMask: core1_0.AccessShaderRead | core1_0.AccessTransferRead,
			},
		},
	})
	if err != nil {
		return errors.Wrapf(err, "failed to create render pass (%s)", res)
	}

	r.renderPass = renderPass
	r.hasRenderPass = true
	return nil
}
